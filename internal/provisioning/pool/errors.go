package pool

import "fmt"

// ImageNotFoundError reports that no node agent is verified against the
// requested marketplace image.
type ImageNotFoundError struct {
	Publisher string
	Offer     string
	Sku       string
}

func (e *ImageNotFoundError) Error() string {
	return fmt.Sprintf(
		"no node agent sku found for offer=%s publisher=%s sku=%s; "+
			"list valid marketplace images with: pool listskus",
		e.Offer, e.Publisher, e.Sku)
}

// PoolBuildError reports a failure while assembling or uploading the pool
// request. The caller must discard any partial request.
type PoolBuildError struct {
	Stage string
	Err   error
}

func (e *PoolBuildError) Error() string {
	return fmt.Sprintf("pool build: %s: %v", e.Stage, e.Err)
}

func (e *PoolBuildError) Unwrap() error { return e.Err }

func buildErr(stage string, format string, args ...interface{}) *PoolBuildError {
	return &PoolBuildError{Stage: stage, Err: fmt.Errorf(format, args...)}
}
