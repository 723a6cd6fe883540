// Package download orchestrates offline region downloads on top of a
// Region Store.
//
// # Orchestrator
//
// The Orchestrator turns the store's callback-driven, one-region-at-a-time
// API into a single observable workflow:
//
//  1. Encode the region name into metadata
//  2. Reject names that already exist in the catalog
//  3. Create the region in the store
//  4. Observe it and switch it to the active state
//  5. Publish progress, completion and failures as DownloadEvents
//
// # Basic Usage
//
//	orch := download.NewOrchestrator(st, download.Options{Logger: logger})
//
//	sub := orch.Subscribe()
//	defer sub.Close()
//
//	if !orch.IsRunning() {
//	    orch.Execute(ctx, "Paris", def)
//	}
//
//	for ev := range sub.Events() {
//	    switch ev := ev.(type) {
//	    case model.Downloading:
//	        fmt.Printf("%s: %d%%\n", ev.RegionName, ev.Percent)
//	    case model.Done, model.Failed:
//	        return
//	    }
//	}
//
// # Event Stream
//
// There is one stream per Orchestrator. It starts as Idle and always
// replays its latest event to new subscribers. Downloading events are only
// published when the rounded percentage rises, so a store that reports
// every tile does not flood subscribers.
//
// # Timeouts
//
// The store gives no signal when a download stalls (for example when the
// device goes offline). The Orchestrator runs a watchdog instead: if the
// percentage has not changed for Options.StallTimeout (30s by default) the
// download fails with model.Timeout.
//
// # Limitations
//
// The store cannot abort a fetch. Timeouts and cancelled contexts end the
// Orchestrator's view of a download, while the store may keep fetching
// tiles in the background. The duplicate-name check and region creation are
// not atomic with respect to other writers of the same store.
//
// # Deleting
//
// Deleter wraps the store's delete call:
//
//	err := download.NewDeleter(st, logger).Execute(ctx, region)
package download
