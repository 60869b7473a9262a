//
// Copyright © 2017 Solus Project
//

package main

import "github.com/solus-project/ferryq/cmd/ferryqctl/cmd"

func main() {
	cmd.Execute()
}
