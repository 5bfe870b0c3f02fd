package utils

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// FieldsDiffer reports whether two JSON payloads differ materially on
// the given fields. An empty field list compares the whole payload.
// Payloads that fail to parse fall back to a byte comparison.
func FieldsDiffer(clientData, serverData []byte, fields []string) bool {
	var client, server map[string]interface{}

	if err := json.Unmarshal(clientData, &client); err != nil {
		return !bytes.Equal(clientData, serverData)
	}
	if err := json.Unmarshal(serverData, &server); err != nil {
		return !bytes.Equal(clientData, serverData)
	}

	if len(fields) == 0 {
		return !reflect.DeepEqual(client, server)
	}

	for _, field := range fields {
		clientValue, clientHas := client[field]
		serverValue, serverHas := server[field]

		// Clients may send partial payloads; a field the client omitted
		// is not a divergence.
		if !clientHas {
			continue
		}
		if !serverHas {
			return true
		}
		if !reflect.DeepEqual(clientValue, serverValue) {
			return true
		}
	}
	return false
}
