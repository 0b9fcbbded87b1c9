// Package harness runs scripted sync scenarios end to end.
//
// A scenario seeds an in-process remote service and the local store, then
// drives a session through identity changes, mutations and clock
// advances. After every step the write queues are drained, so each run
// produces the same remote and local state.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: guest_merge_on_login
//	description: "Guest items are pushed to the account on login"
//	server:
//	  users: { alice: tok-alice }
//	  prices: { p1: 9.5 }
//	  seed:
//	    alice:
//	      cart: [{ id: p2, quantity: 1, price: 5 }]
//	local:
//	  cart_guest: '[{"id":"p1","quantity":2,"display":{}}]'
//	steps:
//	  - add: { collection: cart, id: p1, quantity: 2, price: 10 }
//	  - login: alice
//	  - set_quantity: { collection: cart, id: p1, quantity: 3 }
//	  - advance: 2s
//	assertions:
//	  - type: items
//	    collection: cart
//	    ids: [p2, p1]
//
// Each step names exactly one action: login (with an optional token,
// defaulting to the user's registered token), logout, add, remove,
// set_quantity, toggle, advance, flush, reload, fail or recover.
//
// # Assertion Types
//
//   - items: the live collection holds ids in order, optionally with quantities
//   - server_items: the remote copy of a user's collection holds ids in order
//   - local_key: a local store key is present or absent
//   - calls: the remote service served an operation exactly count times
//   - summary: the cart summary matches the given amounts
//   - pickup: pickup suggestions are exactly ids
//
// # Determinism
//
// The session runs on a testutil.FakeClock, so debounced writes fire only
// inside advance and flush steps. Remote writes are not retried and
// correlation ids come from a sequential generator.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/guest_merge_on_login.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
