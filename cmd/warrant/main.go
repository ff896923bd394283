// Command warrant runs the governance decision pipeline: policy graph
// evaluation, signed capability tokens and a hash-chained decision ledger.
package main

import "github.com/ppiankov/warrant/internal/cli"

func main() {
	cli.Execute()
}
