package models

// Cluster is a maximal set of record ids connected by MATCH decisions.
// A record with no matches forms a singleton cluster.
type Cluster struct {
	ClusterID string   `json:"cluster_id"`
	Members   []string `json:"members"`
}

// TrustScore is the Trust Scorer's four-component output for one record.
type TrustScore struct {
	RecordID          string  `json:"record_id"`
	SourceReliability float64 `json:"source_reliability"`
	Completeness      float64 `json:"completeness"`
	Timeliness        float64 `json:"timeliness"`
	Validity          float64 `json:"validity"`
	Overall           float64 `json:"overall"`
}
