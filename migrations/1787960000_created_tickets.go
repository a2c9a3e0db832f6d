package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("tickets")

		collection.Fields.Add(
			&core.TextField{Name: "ticket_id", Required: true},
			&core.TextField{Name: "payment_id", Required: true},
			&core.EmailField{Name: "email", Required: true},
			&core.TextField{Name: "name", Required: true},
			&core.TextField{Name: "phone"},
			&core.TextField{Name: "event_name"},
			&core.TextField{Name: "event_date"},
			&core.TextField{Name: "ticket_type"},
			&core.NumberField{Name: "price"},
			&core.BoolField{Name: "used"},
			&core.DateField{Name: "used_at"},
			&core.TextField{Name: "scanned_by"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		// Both identifiers are unique; ticket_id is the redemption key,
		// payment_id the import identity.
		collection.AddIndex("idx_tickets_ticket_id", true, "ticket_id", "")
		collection.AddIndex("idx_tickets_payment_id", true, "payment_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("tickets")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
