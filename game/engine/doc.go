// Package engine runs one vehicle on one track, tick by tick.
//
// The engine ties together the occupancy bitmap, the collision detector,
// the ray sensors and the physics step. Each call to Tick consumes one input
// snapshot and returns the Frame that a renderer or remote client needs.
//
// Core Types:
//
// The Engine interface defines the contract used by the service layer and is
// implemented by SimEngine. TrackConfig describes the field, walls, finish
// zones, car footprint and tuning, loaded from JSON or taken from
// DefaultTrackConfig.
//
// Usage:
//
//	track := engine.DefaultTrackConfig()
//	sim, err := engine.NewEngine(track, engine.WithLogger(logger))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	frame := sim.Tick(physics.Input{Throttle: true})
//	fmt.Println(frame.Phase, frame.Sensors)
//
// Run Rules:
//
// A run starts in the countdown phase with the car parked on its start pose.
// Controls are ignored until the countdown expires. While running, any move
// that would put the car into a wall or outside the field is undone and the
// car stops dead. Reaching a finish zone freezes the timer. A reset input
// puts everything back to the start and begins a new run.
package engine
