// Package integration provides integration tests for tpsbench.
//
// These tests run the benchmark against a real EVM node. They are skipped
// unless RPC_URL is set, making them safe to include in CI pipelines.
//
// # Running Integration Tests
//
// Connection tests (chain queries, subscriptions, block summaries):
//
//	RPC_URL=http://localhost:8545 go test ./internal/integration/...
//
// Full benchmark (requires a funded account):
//
//	RPC_URL=http://localhost:8545 \
//	PRIVATE_KEY=0x... \
//	go test ./internal/integration/...
//
// Skip the full benchmark in CI:
//
//	go test -short ./...
//
// # Environment Variables
//
//   - RPC_URL: RPC endpoint URL, http(s) or ws(s)
//   - PRIVATE_KEY: Funder private key (hex format, with or without 0x prefix)
//
// # Local Development
//
// For local testing, you can use anvil (from Foundry). anvil has no
// finality gadget, so its "finalized" tag trails the head by a fixed depth:
//
//	# Start a local node producing a block every second
//	anvil --block-time 1
//
//	# Run integration tests with the default anvil private key
//	RPC_URL=http://localhost:8545 \
//	PRIVATE_KEY=0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80 \
//	go test ./internal/integration/...
package integration
