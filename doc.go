// Package bundle loads large, versioned, gzip-compressed tar bundles over
// HTTP into a virtual filesystem, keeping a persistent cache so repeat
// loads avoid the network.
//
// A bundle is published as a manifest plus chunk files. The manifest at
// "<bundle-url>.manifest" holds the total size on its first line and the
// chunk file names, in order, on the following lines. Chunks are fetched one
// at a time relative to the bundle's directory.
//
// # Quick Start
//
//	cache, err := sqlite.Open("/var/cache/game/cache.db")
//	if err != nil {
//	    return err
//	}
//	defer cache.Close()
//
//	sess, err := bundle.NewSession(
//	    bundle.WithStore(cache),
//	    bundle.WithFS(fsys),
//	    bundle.WithVersion(3),
//	)
//	if err != nil {
//	    return err
//	}
//	results, err := sess.Start(ctx, bundle.Bundle{
//	    URL:   "https://cdn.example.com/v3/core.tar.gz",
//	    Mount: "/data",
//	})
//
// # Load pipeline
//
// Each [Session.Load] walks a small state machine. The version check gates
// the whole session; a store written with another format version is purged
// before anything is read. The cache lookup either hits, in which case the
// cached archive goes straight to extraction, or misses and the bundle is
// downloaded, decompressed, and written back to the cache first. Any error
// ends the load in [StateFailed]; nothing is retried.
//
// Storage records are split into fixed-size sub-records independent of the
// server's download chunks. See the store package.
//
// # Durable mount
//
// [WithDurableMount] keeps a user-data mount in a separate store. [Session.Start]
// populates it; [Session.Sync] flushes it. Sync requests that arrive while a
// sync is running collapse into a single follow-up.
package bundle
