package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	// ErrInFlightExists is returned when a payment cannot be created because
	// the user already holds a pending or awaiting_confirmation payment.
	ErrInFlightExists = errors.New("an in-flight payment already exists for this user")

	// ErrDuplicateTxHash is returned when a transaction hash is already bound
	// to another payment.
	ErrDuplicateTxHash = errors.New("transaction hash is already bound to a payment")

	// ErrDuplicatePlanKey is returned when a plan key is already taken within
	// the tenant.
	ErrDuplicatePlanKey = errors.New("plan key already exists for this tenant")
)

const mysqlDuplicateEntry = 1062

func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
