package signalr

import (
	"encoding/json"
)

// InvokeResult is the combined value/error result for async invocations. Used as channel type.
type InvokeResult struct {
	Value interface{}
	Error error
}

// Into stores Value in the value pointed to by target, converting it the way encoding/json does.
// If the result carries an error, Into returns it.
func (r InvokeResult) Into(target interface{}) error {
	if r.Error != nil {
		return r.Error
	}
	raw, err := json.Marshal(r.Value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

// errorInvokeResultChan returns a closed channel holding only err
func errorInvokeResultChan(err error) <-chan InvokeResult {
	ch := make(chan InvokeResult, 1)
	ch <- InvokeResult{Error: err}
	close(ch)
	return ch
}
