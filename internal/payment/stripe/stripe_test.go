package stripe

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	stripego "github.com/stripe/stripe-go/v81"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"network error", errors.New("connection refused"), true},
		{"rate limited", &stripego.Error{HTTPStatusCode: 429}, true},
		{"server error", &stripego.Error{HTTPStatusCode: 503}, true},
		{"card declined", &stripego.Error{HTTPStatusCode: 402}, false},
		{"bad request", &stripego.Error{HTTPStatusCode: 400}, false},
		{"unauthorized", &stripego.Error{HTTPStatusCode: 401}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gwErr := classify(tt.err)
			assert.Equal(t, tt.transient, gwErr.Transient)
			assert.ErrorIs(t, gwErr, tt.err)
		})
	}
}
