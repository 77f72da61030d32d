package repo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"adserver.com/internal/payments/domain"
	"adserver.com/pkg/xerr"
)

func TestDbErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"deadlock", &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, xerr.Transient},
		{"lock wait", fmt.Errorf("exec: %w", &mysql.MySQLError{Number: 1205}), xerr.Transient},
		{"duplicate", &mysql.MySQLError{Number: 1062}, xerr.DbError},
		{"other", errors.New("boom"), xerr.DbError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, xerr.CodeOf(dbErr(tt.err, "op")))
		})
	}

	assert.NoError(t, dbErr(nil, "op"))
	assert.ErrorIs(t, dbErr(gorm.ErrRecordNotFound, "op"), domain.ErrNotFound)
}
