package entities

// Media is a handle to a local video file produced by a stage.
type Media struct {
	Path     string  `json:"path"`
	Title    string  `json:"title,omitempty"`
	Duration float64 `json:"duration"`
	// Locator is set once the file has been published to object storage.
	Locator string `json:"locator,omitempty"`
}

type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Transcript struct {
	Language string              `json:"language"`
	Duration float64             `json:"duration"`
	Segments []TranscriptSegment `json:"segments"`
	Text     string              `json:"text"`
}

// Segment is a time range selected for cutting.
type Segment struct {
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Title  string  `json:"title"`
	Reason string  `json:"reason,omitempty"`
}

func (s Segment) Duration() float64 {
	return s.End - s.Start
}
