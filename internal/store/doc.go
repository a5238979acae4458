// Package store groups the stock.Store implementations.
//
// memory keeps everything in process, redis mirrors the key layout used by the
// earlier dashboard deployment, and postgres stores products and subscriptions
// in two tables. storetest holds the behavioural suite every backend must pass.
package store
