package detect

// InferenceRequest represents a request to the detection service
type InferenceRequest struct {
	Image               string   `json:"image"` // Base64-encoded JPEG image
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	EnabledClasses      []string `json:"enabled_classes,omitempty"`
}

// BoundingBox represents a detected object's bounding box
type BoundingBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"` // 0.0 to 1.0
	ClassID    int     `json:"class_id"`   // COCO class ID
	ClassName  string  `json:"class_name"`
}

// InferenceResponse represents the response from the detection service
type InferenceResponse struct {
	BoundingBoxes   []BoundingBox `json:"bounding_boxes"`
	InferenceTimeMs float64       `json:"inference_time_ms"`
	FrameShape      []int         `json:"frame_shape"` // [height, width]
	DetectionCount  int           `json:"detection_count"`
}

// Detection is a single person found in a frame
type Detection struct {
	BBox       [4]float64 `json:"bbox"` // x1, y1, x2, y2
	Confidence float64    `json:"confidence"`
	ClassID    int        `json:"class_id"`
}

// PersonClassID is the COCO class id for people
const PersonClassID = 0
