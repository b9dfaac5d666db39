package assistant

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/core/types"
)

// Stage is a step of the voice profile-creation dialogue.
type Stage string

const (
	StageInitial  Stage = "initial"
	StageName     Stage = "name"
	StageUserType Stage = "userType"
	StageLocation Stage = "location"
	StageUsername Stage = "username"
	StageComplete Stage = "complete"
)

// ProfileData is what the dialogue collects.
type ProfileData struct {
	Name     string         `json:"name,omitempty"`
	UserType types.UserType `json:"userType,omitempty"`
	Location string         `json:"location,omitempty"`
	Username string         `json:"username,omitempty"`
}

// Missing lists the fields still needed, phrased for the user.
func (d ProfileData) Missing() []string {
	var out []string
	if d.Name == "" {
		out = append(out, "name")
	}
	if d.UserType == "" {
		out = append(out, "whether you're a farmer or consumer")
	}
	if d.Location == "" {
		out = append(out, "location")
	}
	if d.Username == "" {
		out = append(out, "username")
	}
	return out
}

func (d ProfileData) Complete() bool {
	return d.Name != "" && d.UserType != "" && d.Location != "" && d.Username != ""
}

var profileTriggers = []string{"create profile", "sign up", "register", "new account"}

// WantsProfile reports whether an utterance asks to start profile creation.
func WantsProfile(text string) bool {
	lower := strings.ToLower(text)
	for _, t := range profileTriggers {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

var (
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)my name is ([A-Za-z\s]+)`),
		regexp.MustCompile(`(?i)\bname[:\s]+([A-Za-z\s]+)`),
		regexp.MustCompile(`(?i)([A-Za-z\s]+) is my name`),
	}
	locationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)from ([A-Za-z\s]+)`),
		regexp.MustCompile(`(?i)village[:\s]+([A-Za-z\s]+)`),
		regexp.MustCompile(`(?i)city[:\s]+([A-Za-z\s]+)`),
		regexp.MustCompile(`(?i)location[:\s]+([A-Za-z\s]+)`),
	}
	usernamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)username(?:\s+is)?[:\s]+([A-Za-z0-9_]+)`),
		regexp.MustCompile(`(?i)login(?:\s+is)?[:\s]+([A-Za-z0-9_]+)`),
		regexp.MustCompile(`(?i)account(?:\s+is)?[:\s]+([A-Za-z0-9_]+)`),
	}
	farmerWord   = regexp.MustCompile(`(?i)\bfarmer\b`)
	consumerWord = regexp.MustCompile(`(?i)\bconsumer\b`)
	bareWords    = regexp.MustCompile(`^[A-Za-z]+(?:\s+[A-Za-z]+){0,3}$`)
)

// Captures run to the end of the alphabetic span, so "my name is Ravi and I
// am a farmer" would otherwise yield "Ravi and I am a farmer".
var captureStopWords = map[string]bool{
	"and": true, "i": true, "im": true, "am": true, "from": true, "my": true,
	"is": true, "the": true, "a": true, "an": true, "village": true, "city": true,
	"town": true, "district": true, "username": true, "login": true, "but": true,
}

func cleanCapture(s string) string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if captureStopWords[strings.ToLower(f)] {
			if len(out) == 0 {
				continue
			}
			break
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

func firstCapture(patterns []*regexp.Regexp, text string) string {
	for _, re := range patterns {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		if v := cleanCapture(m[1]); v != "" {
			return v
		}
	}
	return ""
}

// ProfileSession is the per-client dialogue state. Callers hold Lock for the
// duration of a turn.
type ProfileSession struct {
	sync.Mutex

	ID        string
	Stage     Stage
	Data      ProfileData
	History   []core.ChatMessage
	UserID    int64
	UpdatedAt time.Time
}

func newProfileSession(id string, now time.Time) *ProfileSession {
	return &ProfileSession{ID: id, Stage: StageInitial, UpdatedAt: now}
}

// CurrentStage reads Stage under the session lock.
func (s *ProfileSession) CurrentStage() Stage {
	s.Lock()
	defer s.Unlock()
	return s.Stage
}

// Active reports whether the dialogue is collecting fields.
func (s *ProfileSession) Active() bool {
	return s.Stage != StageInitial && s.Stage != StageComplete
}

// Restart clears collected data so a finished session can start over.
func (s *ProfileSession) Restart() {
	s.Stage = StageInitial
	s.Data = ProfileData{}
	s.History = nil
	s.UserID = 0
}

// Advance extracts every field present in text and moves Stage to the first
// field still missing. It never moves to StageComplete; that happens once the
// account exists (see MarkComplete).
func (s *ProfileSession) Advance(text string) {
	prev := s.Stage
	if s.Stage == StageInitial {
		s.Stage = StageName
	}
	lower := strings.ToLower(text)
	trimmed := strings.TrimSpace(strings.TrimRight(text, ".!?"))

	if s.Data.Name == "" && (s.Stage == StageName || strings.Contains(lower, "name")) {
		name := firstCapture(namePatterns, text)
		if name == "" && prev == StageName && bareAnswer(trimmed) {
			name = trimmed
		}
		s.Data.Name = name
	}

	if s.Data.UserType == "" {
		switch {
		case farmerWord.MatchString(text):
			s.Data.UserType = types.UserTypeFarmer
		case consumerWord.MatchString(text):
			s.Data.UserType = types.UserTypeConsumer
		}
	}

	if s.Data.Location == "" && (s.Stage == StageLocation || containsAny(lower, "village", "city", "from", "location", "town")) {
		loc := firstCapture(locationPatterns, text)
		if loc == "" && prev == StageLocation && bareAnswer(trimmed) {
			loc = trimmed
		}
		s.Data.Location = loc
	}

	if s.Data.Username == "" && (s.Stage == StageUsername || containsAny(lower, "username", "login", "account")) {
		username := firstCapture(usernamePatterns, text)
		if username == "" && prev == StageUsername && types.ValidUsername(trimmed) {
			username = trimmed
		}
		if types.ValidUsername(username) {
			s.Data.Username = username
		}
	}

	s.Stage = s.nextStage()
}

func (s *ProfileSession) nextStage() Stage {
	switch {
	case s.Data.Name == "":
		return StageName
	case s.Data.UserType == "":
		return StageUserType
	case s.Data.Location == "":
		return StageLocation
	default:
		return StageUsername
	}
}

// MarkComplete records the created account.
func (s *ProfileSession) MarkComplete(userID int64) {
	s.UserID = userID
	s.Stage = StageComplete
}

// RejectUsername drops a username that could not be registered.
func (s *ProfileSession) RejectUsername() {
	s.Data.Username = ""
	s.Stage = StageUsername
}

// NextPrompt is what the assistant should ask for next.
func (s *ProfileSession) NextPrompt() string {
	switch {
	case s.Stage == StageName && s.Data.Name == "":
		return "To create your profile, I need some information. What is your full name?"
	case s.Stage == StageUserType && s.Data.UserType == "":
		return fmt.Sprintf("Thanks %s. Are you a farmer or a consumer?", s.Data.Name)
	case s.Stage == StageLocation && s.Data.Location == "":
		return "Great! Now, which village or town are you from?"
	case s.Stage == StageUsername && s.Data.Username == "":
		return "Almost done! What username would you like to use for logging in?"
	}
	return fmt.Sprintf("I still need to know your %s. Can you provide this information?", strings.Join(s.Data.Missing(), ", "))
}

// CompletionSummary confirms a created profile.
func (s *ProfileSession) CompletionSummary() string {
	return fmt.Sprintf("Great! I've collected all the information needed for your profile:\n"+
		"- Name: %s\n- Type: %s\n- Location: %s\n- Username: %s\n\n"+
		"Your profile has been created successfully. You can now log in with your username.\n"+
		"A temporary password has been generated for you, which you should change after logging in.",
		s.Data.Name, s.Data.UserType, s.Data.Location, s.Data.Username)
}

// bareAnswer accepts a short reply such as "Ravi Kumar" given in answer to a
// direct question.
func bareAnswer(s string) bool {
	if !bareWords.MatchString(s) || farmerWord.MatchString(s) || consumerWord.MatchString(s) {
		return false
	}
	return cleanCapture(s) == s
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
