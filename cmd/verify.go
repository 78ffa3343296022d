package cmd

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/runZeroInc/sshlogin/strategy"
)

const NotAllowedMessage = "user is not allowed"

// allowUsers refuses authenticated users outside names. An empty list
// disables the check.
func allowUsers(names []string) strategy.VerifyFunc {
	if len(names) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(names))
	for _, name := range names {
		allowed[name] = struct{}{}
	}
	return func(ctx context.Context, u *strategy.User) (*strategy.User, strategy.Info, error) {
		if _, ok := allowed[u.Username]; !ok {
			return nil, strategy.Info{"message": NotAllowedMessage}, nil
		}
		return u, nil, nil
	}
}

// withRequest adapts verify for strategies configured to pass the request
// through to the callback
func withRequest(verify strategy.VerifyFunc, log *logrus.Logger) strategy.VerifyRequestFunc {
	return func(ctx context.Context, req strategy.Request, u *strategy.User) (*strategy.User, strategy.Info, error) {
		log.Tracef("verifying %s with request", u.Username)
		if verify == nil {
			return u, nil, nil
		}
		return verify(ctx, u)
	}
}
