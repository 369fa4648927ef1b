package camera

import "sort"

// StateFrame is one entry on the camera's state stack: the features
// that were written by a push_state call and the values they held
// immediately before.
type StateFrame struct {
	saved map[Feature]Value
	order []Feature
}

// stateStack is the LIFO of StateFrames behind push_state / pop_state.
type stateStack struct {
	frames []*StateFrame
}

// pushState snapshots the current value of every feature named in kv,
// then applies kv in weight order (ascending; see feature.go's
// pushWeights). Whenever trigger_mode is among the changed features,
// overlap_enabled's current device value is saved too, even when kv
// does not name it, so popState restores it
// (original_source/scope/device/andor/camera_base.py's
// _update_push_states rule: the device can silently revert overlap on
// a trigger-mode change).
func (c *Camera) pushState(kv map[Feature]Value) error {
	order := sortByWeight(kv, pushWeights)

	frame := &StateFrame{saved: map[Feature]Value{}, order: order}
	changingTrigger := false
	if _, ok := kv[FeatureTriggerMode]; ok {
		changingTrigger = true
	}
	for _, f := range order {
		cur, err := c.getRaw(f)
		if err != nil {
			return err
		}
		frame.saved[f] = cur
	}
	if _, ok := kv[FeatureOverlapEnabled]; changingTrigger && !ok {
		cur, err := c.getRaw(FeatureOverlapEnabled)
		if err != nil {
			return err
		}
		frame.saved[FeatureOverlapEnabled] = cur
		frame.order = append(frame.order, FeatureOverlapEnabled)
	}

	for _, f := range order {
		v := kv[f]
		if f == FeatureOverlapEnabled && changingTrigger {
			// Applied after trigger_mode regardless of requested
			// order, since its legal range depends on the new mode.
			continue
		}
		if err := c.setRaw(f, v); err != nil {
			return err
		}
	}
	if changingTrigger {
		if v, ok := kv[FeatureOverlapEnabled]; ok {
			if err := c.setRaw(FeatureOverlapEnabled, v); err != nil {
				return err
			}
		}
	}

	c.stack.frames = append(c.stack.frames, frame)
	return nil
}

// popState restores the top frame's saved values in descending weight
// order (reverse of push) and removes it from the stack. If a write
// fails, the frame is kept (not silently dropped) so it remains
// available for inspection.
func (c *Camera) popState() error {
	n := len(c.stack.frames)
	if n == 0 {
		return nil
	}
	frame := c.stack.frames[n-1]

	order := append([]Feature(nil), frame.order...)
	sort.SliceStable(order, func(i, j int) bool {
		return weightFor(popWeights, order[i]) < weightFor(popWeights, order[j])
	})

	for _, f := range order {
		if err := c.setRaw(f, frame.saved[f]); err != nil {
			return err
		}
	}
	c.stack.frames = c.stack.frames[:n-1]
	return nil
}

func sortByWeight(kv map[Feature]Value, weights map[Feature]int) []Feature {
	order := make([]Feature, 0, len(kv))
	for f := range kv {
		order = append(order, f)
	}
	sort.SliceStable(order, func(i, j int) bool {
		return weightFor(weights, order[i]) < weightFor(weights, order[j])
	})
	return order
}

// PushedState pushes kv and returns a func that pops it, guaranteeing
// release on every exit path of a scoped acquisition.
func (c *Camera) PushedState(kv map[Feature]Value) (func() error, error) {
	if err := c.pushState(kv); err != nil {
		return nil, err
	}
	return c.popState, nil
}
