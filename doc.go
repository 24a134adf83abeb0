// Package marqo stores pipeline documents in a Marqo index and retrieves them
// by tensor search.
//
// Marqo embeds the content on write, so the store never handles vectors:
//
//	store, err := marqo.New(ctx, marqo.WithIndex("articles"))
//	if err != nil { ... }
//	n, err := store.WriteDocuments(ctx, docs, marqo.PolicySkip)
//
//	r, _ := marqo.NewRetriever(store, marqo.WithDefaultTopK(5))
//	results, err := r.Run(ctx, []string{"what is tensor search?"}, nil, 0)
//
// Metadata keys are stored as top-level Marqo fields prefixed with
// "__metadata_". Filters use the field names without the prefix.
package marqo
