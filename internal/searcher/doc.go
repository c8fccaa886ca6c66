// Package searcher answers natural-language queries against the index.
//
// A query is embedded with the same embedder used for indexing, the store
// returns the nearest embedded chunks under the index metric, and each raw
// distance is converted to a score in [0, 1]:
//
//	l2:     score = 1 / (1 + distance)
//	cosine: score = 1 - distance, clamped to [0, 1]
//
// Responses are cached by (query, limit) for a TTL. Call Invalidate after
// every sync so that cached rankings never outlive the rows they name.
//
//	s := searcher.NewSearcher(store, emb, searcher.Config{Metric: types.MetricL2})
//	resp, err := s.Search(ctx, searcher.SearchRequest{Query: "tax return 2021", Limit: 5})
package searcher
