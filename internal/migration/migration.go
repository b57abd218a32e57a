package migration

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	auditdomain "github.com/smallbiznis/partnerledger/internal/audit/domain"
	commissiondomain "github.com/smallbiznis/partnerledger/internal/commission/domain"
	"github.com/smallbiznis/partnerledger/internal/events"
	notificationdomain "github.com/smallbiznis/partnerledger/internal/notification/domain"
	partnerdomain "github.com/smallbiznis/partnerledger/internal/partner/domain"
	paymentdomain "github.com/smallbiznis/partnerledger/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
	sysdomain "github.com/smallbiznis/partnerledger/internal/systemconfig/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.up.sql
var embeddedMigrations embed.FS

// Models lists every table the engine owns.
func Models() []any {
	return []any{
		&partnerdomain.Partner{},
		&paymentdomain.PaymentEvent{},
		&commissiondomain.Commission{},
		&payoutdomain.Payout{},
		&events.Record{},
		&auditdomain.AuditLog{},
		&sysdomain.Setting{},
		&notificationdomain.Notification{},
	}
}

// Run creates or updates the schema, then applies the embedded index
// scripts. Every step is idempotent.
func Run(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	names, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.up.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		raw, err := embeddedMigrations.ReadFile(name)
		if err != nil {
			return err
		}
		for _, stmt := range strings.Split(string(raw), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}
