// Command configschema prints the JSON schema of the merge requests config
// file, for editor validation of config/merge_requests.yml.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"mrpulse.app/dashboard/core/config"
)

func main() {
	r := &jsonschema.Reflector{
		FieldNameTag: "yaml",
	}
	schema := r.Reflect(&config.MergeRequests{})
	schema.Title = "mrpulse merge requests config"

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshaling schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
