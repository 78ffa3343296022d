package strategy

// Info carries informational details alongside a success or failure
type Info map[string]any

// Actions receives the single terminal outcome of an authentication attempt
type Actions interface {
	Success(user *User, info Info)
	Fail(info Info)
	Error(err error)
}

const (
	ResultSuccess = "success"
	ResultFail    = "fail"
	ResultError   = "error"
)

// Recorder is an Actions that keeps the outcome for later inspection
type Recorder struct {
	Result string
	User   *User
	Info   Info
	Err    error
	Calls  int
}

func (r *Recorder) Success(user *User, info Info) {
	r.Calls++
	r.Result = ResultSuccess
	r.User = user
	r.Info = info
}

func (r *Recorder) Fail(info Info) {
	r.Calls++
	r.Result = ResultFail
	r.Info = info
}

func (r *Recorder) Error(err error) {
	r.Calls++
	r.Result = ResultError
	r.Err = err
}
