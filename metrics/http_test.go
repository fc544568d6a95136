package metrics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestHTTPResult(t *testing.T) {
	test := func(code int, err error, expect string) {
		t.Helper()
		if got := HTTPResult(code, err); got != expect {
			t.Fatalf("HTTPResult(%d, %v) = %q, expected %q", code, err, got, expect)
		}
	}

	test(200, nil, "ok")
	test(204, nil, "ok")
	test(302, nil, "other")
	test(404, nil, "usererror")
	test(503, nil, "servererror")
	test(0, fmt.Errorf("dial: %w", os.ErrDeadlineExceeded), "timeout")
	test(0, context.DeadlineExceeded, "timeout")
	test(0, context.Canceled, "canceled")
	test(0, errors.New("connection refused"), "error")
}
