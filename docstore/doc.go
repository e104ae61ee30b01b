// Package docstore persists rendered stage documents in SQLite.
//
// Documents are stored per pipeline and keyed by stage uid:
//
//	store, err := docstore.NewSQLiteStore(docstore.Config{Path: "pipeline.db"})
//	if err != nil {
//		return err
//	}
//	if err := store.Init(ctx); err != nil {
//		return err
//	}
//	defer store.Close()
//
//	doc, err := featurestage.NewWriter().Write(model)
//	...
//	err = store.Save(ctx, "churn", doc)
//	...
//	doc, err = store.Load(ctx, "churn", model.UID())
package docstore
