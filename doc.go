// Package composer builds a single Move script transaction out of several
// dependent function calls.
//
// Each call may consume values returned by earlier calls without any call
// being executed until the whole script is submitted. The composer resolves
// each module interface, checks type and value arguments against it,
// encodes concrete values with BCS and hands the ordered call graph to an
// engine that validates the flow of values and serializes the script.
//
// # Basic Usage
//
// Create a session, append calls, and build:
//
//	client, err := composer.NewNodeClient("https://fullnode.testnet.aptoslabs.com/v1", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c, err := composer.New(client)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	coins, err := c.Invoke(ctx, "0x1::coin::withdraw",
//	    []any{"0x1::aptos_coin::AptosCoin"}, composer.Signer(0), uint64(100))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_, err = c.Invoke(ctx, "0x1::coin::deposit",
//	    []any{"0x1::aptos_coin::AptosCoin"}, recipient, coins[0])
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	payload, err := c.Build()
//
// # Arguments
//
// Arguments are either Go values, which are encoded for the parameter type
// declared by the module, or CallArguments:
//
//   - ResultRef: a value returned by an earlier call. Use Copy, Borrow or
//     BorrowMut to change how it is consumed; the default moves it.
//
//   - SignerArgument: the transaction signer, for signer and &signer
//     parameters.
//
//   - RawArgument: a value already encoded with BCS.
//
// # Sessions
//
// A Composer is used by one goroutine and built once. Any error leaves it
// unusable. Module interfaces are fetched at most once per session. The
// engine runtime behind every session is initialized once per process.
//
// # Transactions
//
// BuildTransaction runs a build function on a fresh session and wraps the
// result into an unsigned SimpleTransaction, filling in the sequence
// number, chain id and gas price from a LedgerSource unless they are given
// as options.
package composer
