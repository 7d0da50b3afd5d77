// Package snapshot captures fabric state before a change and compares it
// with the state afterwards.
package snapshot

import (
	"context"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/fabric"
	"github.com/openfroyo/fabricupgrade/pkg/transports/apic"
)

// Snapshot is a point-in-time capture of fabric state. Records are kept
// verbatim as returned by the controller.
type Snapshot struct {
	Faults  []engine.Attributes `json:"faults"`
	Devices []engine.Attributes `json:"devices"`
	Routes  []engine.Attributes `json:"isis_routes"`
}

// Capture queries the current fault, device and inter-pod route state.
func Capture(ctx context.Context, q engine.Querier) (*Snapshot, error) {
	faults, err := GetFaults(ctx, q)
	if err != nil {
		return nil, err
	}
	devices, err := GetDevices(ctx, q)
	if err != nil {
		return nil, err
	}
	routes, err := GetInterpodRoutes(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Faults: faults, Devices: devices, Routes: routes}, nil
}

// GetFaults returns every fault instance.
func GetFaults(ctx context.Context, q engine.Querier) ([]engine.Attributes, error) {
	return q.GetClass(ctx, fabric.ClassFault, nil)
}

// GetDevices returns every fabric node.
func GetDevices(ctx context.Context, q engine.Querier) ([]engine.Attributes, error) {
	return q.GetClass(ctx, fabric.ClassTopSystem, nil)
}

// GetInterpodRoutes returns the IS-IS routes towards the TEP pools of all
// physical pods. Without physical pods there is nothing to query.
func GetInterpodRoutes(ctx context.Context, q engine.Querier) ([]engine.Attributes, error) {
	records, err := q.GetClass(ctx, fabric.ClassFabricSetupPol, nil)
	if err != nil {
		return nil, err
	}
	pods, err := fabric.DecodeAll[fabric.Pod](records)
	if err != nil {
		return nil, err
	}

	var filters []string
	for _, pod := range pods {
		if pod.IsPhysical() {
			filters = append(filters, apic.Eq(fabric.ClassISISRoute, "pfx", pod.TEPPool))
		}
	}
	if len(filters) == 0 {
		return []engine.Attributes{}, nil
	}

	return q.GetClass(ctx, fabric.ClassISISRoute, &engine.Query{
		Filter:         apic.Or(filters...),
		SubtreeInclude: "relations",
	})
}
