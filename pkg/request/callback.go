package request

// Callback is notified of a dispatch outcome. Exactly one method is called
// per dispatch.
type Callback interface {
	OnSuccess(path string)
	OnError(path string, err error)
	OnCancel(path string)
}

// Funcs adapts optional functions to Callback. Nil fields are skipped.
type Funcs struct {
	Success func(path string)
	Error   func(path string, err error)
	Cancel  func(path string)
}

// OnSuccess calls f.Success if set.
func (f Funcs) OnSuccess(path string) {
	if f.Success != nil {
		f.Success(path)
	}
}

// OnError calls f.Error if set.
func (f Funcs) OnError(path string, err error) {
	if f.Error != nil {
		f.Error(path, err)
	}
}

// OnCancel calls f.Cancel if set.
func (f Funcs) OnCancel(path string) {
	if f.Cancel != nil {
		f.Cancel(path)
	}
}
