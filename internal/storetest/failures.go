package storetest

import "errors"

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("injected failure")

type failure struct {
	op   string
	item string
	err  error
}

type failures []failure

func (f *failures) add(op string, item string, err error) {
	if err == nil {
		err = ErrInjected
	}
	*f = append(*f, failure{op: op, item: item, err: err})
}

func (f failures) match(op string, item string) error {
	for _, candidate := range f {
		if candidate.op == op && (candidate.item == "" || candidate.item == item) {
			return candidate.err
		}
	}
	return nil
}
