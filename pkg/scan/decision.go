package scan

// Decide fuses one frame's object and marker detections into a capture
// decision. Pure function over the current frame, no memory of past frames.
//
// Only markers of the given kind participate; everything else is filtered
// out before fusion. Overlap is strict axis-aligned rectangle intersection:
// touching edges do not count. The decision needs only the existence of one
// overlapping pair, so evaluation order is not observable.
func Decide(objects []DetectedObject, markers []DetectedMarker, kind MarkerKind) Decision {
	if len(objects) == 0 {
		return NoObject
	}

	relevant := markers[:0:0]
	for _, m := range markers {
		if m.Kind == kind {
			relevant = append(relevant, m)
		}
	}
	if len(relevant) == 0 {
		return ObjectOnly
	}

	for _, o := range objects {
		for _, m := range relevant {
			if o.Box.Overlaps(m.Box) {
				return ObjectWithAlignedMarker
			}
		}
	}
	return ObjectWithUnalignedMarker
}

// Behavior maps a decision to its observable effects.
type Behavior struct {
	ShowPreview    bool
	TriggerCapture bool
	Status         string
}

// behaviors is the decision-to-effect lookup table.
var behaviors = map[Decision]Behavior{
	NoObject:                  {ShowPreview: false, TriggerCapture: false, Status: "searching"},
	ObjectOnly:                {ShowPreview: true, TriggerCapture: false, Status: "marker missing"},
	ObjectWithUnalignedMarker: {ShowPreview: true, TriggerCapture: false, Status: "align marker"},
	ObjectWithAlignedMarker:   {ShowPreview: true, TriggerCapture: true, Status: "capturing"},
}

// BehaviorFor returns the observable behavior for a decision.
func BehaviorFor(d Decision) Behavior {
	return behaviors[d]
}
