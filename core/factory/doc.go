// Package factory is the registry behind every pluggable part of a run:
// charging controllers, metric sinks and reservation strategies are named
// by a type string in the configuration and built from their raw settings.
//
//	reg := factory.NewRegistry[control.Constructor]()
//	reg.Register("fcfs", func(conf map[string]any) (control.Constructor, error) {
//	    var c struct{ MinLead time.Duration `json:"min_lead"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return build(c), nil
//	})
//	ctrl, err := reg.Create(factory.ModuleConfig{Type: "fcfs"})
package factory
