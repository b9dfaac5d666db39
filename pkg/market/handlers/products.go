package handlers

import (
	"net/http"
	"strconv"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/core/types"
	"github.com/vango-go/agrimarket/pkg/market/marketplace"
	"github.com/vango-go/agrimarket/pkg/market/store"
)

type ProductsHandler struct {
	Market *marketplace.Service
}

type bidRequest struct {
	Amount int64 `json:"amount"`
}

// List accepts optional ?status= and ?userId= filters.
func (h ProductsHandler) List(w http.ResponseWriter, r *http.Request) {
	var f store.ProductFilter
	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		switch st := types.ProductStatus(s); st {
		case types.ProductActive, types.ProductSold, types.ProductClosed:
			f.Status = st
		default:
			writeError(w, r, core.NewInvalidRequestErrorWithParam("invalid status", "status"))
			return
		}
	}
	if s := q.Get("userId"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, r, core.NewInvalidRequestErrorWithParam("invalid userId", "userId"))
			return
		}
		f.UserID = id
	}
	products, err := h.Market.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if products == nil {
		products = []*types.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (h ProductsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	detail, err := h.Market.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h ProductsHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in marketplace.ProductInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	product, err := h.Market.CreateProduct(r.Context(), p.UserID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (h ProductsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Market.DeleteProduct(r.Context(), p.UserID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h ProductsHandler) Bid(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req bidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	bid, err := h.Market.PlaceBid(r.Context(), p.UserID, id, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}
