package migration

import (
	ledgerdomain "github.com/renderbank/renderbank/internal/ledger/domain"
	"gorm.io/gorm"
)

func autoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&ledgerdomain.Account{},
		&ledgerdomain.Event{},
	)
}
