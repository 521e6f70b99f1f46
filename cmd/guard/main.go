// Guard enforces per-user rate limits and token budgets against Redis.
//
// It serves a JSON API for limit checks, token charges and violation
// analytics, and offers the same operations as one-shot commands:
//
//	# Start the server
//	guard serve --config guard.yaml
//
//	# Count one "messages" operation for a user
//	guard check --user u1 --kind messages
//
//	# Charge 1200 tokens
//	guard charge --user u1 --tokens 1200
//
//	# Most frequent violators in the last day
//	guard violations top --hours 24 --limit 10
//
//	# Run the retention sweep once
//	guard violations prune
package main

func main() {
	Execute()
}
