package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("issuance")

		collection.Fields.Add(
			&core.TextField{Name: "payment_id", Required: true},
			&core.TextField{Name: "ticket_id"},
			&core.EmailField{Name: "email"},
			&core.BoolField{Name: "qr_generated"},
			&core.BoolField{Name: "email_sent"},
			&core.DateField{Name: "sent_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_issuance_payment_id", true, "payment_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("issuance")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
