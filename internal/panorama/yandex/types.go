package yandex

type lookupResponse struct {
	Status string     `json:"status"`
	Data   lookupData `json:"data"`
}

type lookupData struct {
	Data       panoData       `json:"Data"`
	Annotation panoAnnotation `json:"Annotation"`
}

type panoData struct {
	PanoramaID string     `json:"panoramaId"`
	Timestamp  int64      `json:"timestamp"`
	Point      point      `json:"Point"`
	Images     panoImages `json:"Images"`
}

type point struct {
	// Coordinates are lon, lat, and optionally altitude.
	Coordinates []float64 `json:"coordinates"`
}

type panoImages struct {
	ImageID string     `json:"imageId"`
	Zooms   []zoomSize `json:"Zooms"`
	Tiles   tileSize   `json:"Tiles"`
}

type zoomSize struct {
	Level  int `json:"level"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type tileSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type panoAnnotation struct {
	HistoricalPanoramas []historicalEntry `json:"HistoricalPanoramas"`
}

type historicalEntry struct {
	Connection struct {
		OID   string `json:"oid"`
		Point point  `json:"Point"`
	} `json:"Connection"`
	PanoramaID string `json:"panoramaId"`
	Timestamp  int64  `json:"timestamp"`
}
