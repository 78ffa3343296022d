package cmd

import (
	"encoding/json"
	"io"

	"github.com/logrusorgru/aurora/v3"

	"github.com/runZeroInc/sshlogin/auth"
	"github.com/runZeroInc/sshlogin/strategy"
)

// writeJSON writes one indented JSON document followed by a newline
func writeJSON(w io.Writer, v any) error {
	resb, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	resb = append(resb, '\n')
	_, err = w.Write(resb)
	return err
}

// checkReport is the JSON document printed by the check command
type checkReport struct {
	Result     string            `json:"result"`
	User       *strategy.User    `json:"user,omitempty"`
	Info       strategy.Info     `json:"info,omitempty"`
	Error      string            `json:"error,omitempty"`
	Probe      *auth.ProbeResult `json:"probe,omitempty"`
	BadHostKey string            `json:"badHostKey,omitempty"`
}

func newCheckReport(rec *strategy.Recorder, probe *auth.ProbeResult) *checkReport {
	rep := &checkReport{
		Result: rec.Result,
		User:   rec.User,
		Info:   rec.Info,
		Probe:  probe,
	}
	if rec.Err != nil {
		rep.Error = rec.Err.Error()
	}
	return rep
}

// summary renders a one-line colored outcome
func (rep *checkReport) summary(au aurora.Aurora) string {
	switch rep.Result {
	case strategy.ResultSuccess:
		return au.BrightGreen("AUTHENTICATED").String() + " " + rep.User.Username
	case strategy.ResultFail:
		msg, _ := rep.Info["message"].(string)
		return au.BrightYellow("REJECTED").String() + " " + msg
	}
	return au.BrightRed("ERROR").String() + " " + rep.Error
}
