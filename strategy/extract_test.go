package strategy

import (
	"errors"
	"net/url"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

type extractCase struct {
	Name            string            `yaml:"name"`
	UsernameField   string            `yaml:"usernameField"`
	PasswordField   string            `yaml:"passwordField"`
	PrivateKeyField string            `yaml:"privateKeyField"`
	Message         string            `yaml:"message"`
	Body            map[string]string `yaml:"body"`
	Query           map[string]string `yaml:"query"`
	Want            *extractWant      `yaml:"want"`
	WantErr         string            `yaml:"wantErr"`
}

type extractWant struct {
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	PrivateKey string `yaml:"privateKey"`
}

func toValues(m map[string]string) url.Values {
	v := url.Values{}
	for k, s := range m {
		v.Set(k, s)
	}
	return v
}

func loadExtractCases(t *testing.T) []extractCase {
	t.Helper()
	raw, err := os.ReadFile("testdata/extract.yaml")
	if err != nil {
		t.Fatal(err)
	}
	var cases []extractCase
	if err := yaml.Unmarshal(raw, &cases); err != nil {
		t.Fatalf("failed to decode fixtures: %v", err)
	}
	if len(cases) == 0 {
		t.Fatalf("no fixtures")
	}
	return cases
}

func TestExtract(t *testing.T) {
	for _, tc := range loadExtractCases(t) {
		t.Run(tc.Name, func(t *testing.T) {
			s, err := New(Config{
				UsernameField:     tc.UsernameField,
				PasswordField:     tc.PasswordField,
				PrivateKeyField:   tc.PrivateKeyField,
				BadRequestMessage: tc.Message,
			}, nil)
			if err != nil {
				t.Fatal(err)
			}
			creds, err := s.Extract(Params{Body: toValues(tc.Body), Query: toValues(tc.Query)})

			if tc.WantErr != "" {
				if err == nil {
					t.Fatalf("expected error %q, got %+v", tc.WantErr, creds)
				}
				if err.Error() != tc.WantErr {
					t.Errorf("got message %q, expected %q", err.Error(), tc.WantErr)
				}
				if !errors.Is(err, ErrMissingCredentials) {
					t.Errorf("expected ErrMissingCredentials, got %v", err)
				}
				var bre *BadRequestError
				if !errors.As(err, &bre) {
					t.Errorf("expected *BadRequestError, got %T", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := &extractWant{
				Username:   creds.Username,
				Password:   creds.Password,
				PrivateKey: string(creds.PrivateKey),
			}
			if diff := cmp.Diff(tc.Want, got); diff != "" {
				t.Errorf("credentials mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParamsNil(t *testing.T) {
	var p Params
	if p.BodyParam("username") != "" || p.QueryParam("username") != "" {
		t.Errorf("expected empty values from nil params")
	}
}
