package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapPostgresError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"no rows", pgx.ErrNoRows, models.ErrNotFound},
		{"wrapped no rows", fmt.Errorf("query: %w", pgx.ErrNoRows), models.ErrNotFound},
		{"unique", &pgconn.PgError{Code: "23505"}, models.ErrConflict},
		{"not null", &pgconn.PgError{Code: "23502"}, models.ErrBadRequest},
		{"foreign key", &pgconn.PgError{Code: "23503"}, models.ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(MapPostgresError(tt.in), tt.want))
		})
	}

	assert.Nil(t, MapPostgresError(nil))

	other := errors.New("boom")
	assert.Equal(t, other, MapPostgresError(other))
}
