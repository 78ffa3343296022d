package auth

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the tri-state result of a single login probe
type Outcome int

const (
	OutcomeTransportError Outcome = iota
	OutcomeRejected
	OutcomeAuthenticated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTransportError:
		return "transport-error"
	case OutcomeRejected:
		return "rejected"
	case OutcomeAuthenticated:
		return "authenticated"
	}
	return fmt.Sprintf("unknown-%d", int(o))
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "transport-error":
		*o = OutcomeTransportError
	case "rejected":
		*o = OutcomeRejected
	case "authenticated":
		*o = OutcomeAuthenticated
	default:
		return fmt.Errorf("unknown outcome %q", string(b))
	}
	return nil
}

type ProbeResult struct {
	Host                          string        `json:"host,omitempty"`
	Port                          int           `json:"port,omitempty"`
	User                          string        `json:"user,omitempty"`
	TS                            int64         `json:"ts,omitempty"`
	Outcome                       Outcome       `json:"outcome"`
	Stage                         string        `json:"stage,omitempty"`
	Banner                        string        `json:"banner,omitempty"`
	Version                       string        `json:"version,omitempty"`
	HostKeyType                   string        `json:"hostKeyType,omitempty"`
	HostKeyFingerprint            string        `json:"hostKeyFingerprint,omitempty"`
	HostKey                       string        `json:"hostKey,omitempty"`
	Methods                       []string      `json:"methods,omitempty"`
	Attempted                     []string      `json:"attempted,omitempty"`
	Method                        string        `json:"method,omitempty"`
	Result                        string        `json:"result,omitempty"`
	Error                         string        `json:"error,omitempty"`
	Elapsed                       time.Duration `json:"elapsed,omitempty"`
	KeyboardChallengeName         string        `json:"kbdName,omitempty"`
	KeyboardChallengeInstructions string        `json:"kbdInstructions,omitempty"`
	KeyboardChallengeQuestions    string        `json:"kbdQuestions,omitempty"`
	Unreachable                   bool          `json:"unreachable,omitempty"`

	// Cause is set for OutcomeTransportError and OutcomeRejected
	Cause error `json:"-"`
}

func NewProbeResult() *ProbeResult {
	return &ProbeResult{
		Stage:   StageInit,
		TS:      time.Now().Unix(),
		Outcome: OutcomeTransportError,
	}
}

// Authenticated reports whether the server accepted the credentials
func (r *ProbeResult) Authenticated() bool {
	return r.Outcome == OutcomeAuthenticated
}

// Err returns nil for an authenticated probe and the cause otherwise
func (r *ProbeResult) Err() error {
	if r.Outcome == OutcomeAuthenticated {
		return nil
	}
	return r.Cause
}

func (r *ProbeResult) SupportsAuth(t string) bool {
	for _, v := range r.Methods {
		if v == t {
			return true
		}
	}
	return false
}

func (r *ProbeResult) setTransportError(err error) *ProbeResult {
	r.Outcome = OutcomeTransportError
	r.Cause = fmt.Errorf("%w: %w", ErrTransport, err)
	r.Error = err.Error()
	return r
}

func (r *ProbeResult) setRejected() *ProbeResult {
	r.Outcome = OutcomeRejected
	r.Cause = ErrRejected
	r.Error = ErrRejected.Error()
	return r
}

func (r *ProbeResult) recordChallenge(name, instr string, questions []string) {
	if name != "" && r.KeyboardChallengeName == "" {
		r.KeyboardChallengeName = name
	}
	if instr != "" && r.KeyboardChallengeInstructions == "" {
		r.KeyboardChallengeInstructions = instr
	}
	if len(questions) > 0 && r.KeyboardChallengeQuestions == "" {
		r.KeyboardChallengeQuestions = strings.Join(questions, ",")
	}
}
