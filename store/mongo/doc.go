// Package mongo implements store.Store on MongoDB.
//
// Every transition is a single-document FindOneAndUpdate or UpdateOne whose
// filter encodes the allowed source states, so concurrent workers never
// both win. Reserve claims one document per round trip. Lease expiry uses
// an upsert that only matches when the lease is free, expired or already
// held by the caller.
//
// The caller owns the *mongo.Client lifecycle. Pass a database handle
// through the constructor:
//
//	client, _ := mongo.Connect(options.Client().ApplyURI(uri))
//	s := mongostore.New(client.Database("taskq"))
//	s.Migrate(ctx)
package mongo
