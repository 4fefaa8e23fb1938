package model

// AgentResponse is the reply of the agent process.
type AgentResponse struct {
	Data     any           `json:"data"`
	Success  bool          `json:"success"`
	Metadata AgentMetadata `json:"metadata"`
}

// AgentMetadata describes how the agent served a call.
type AgentMetadata struct {
	LatencyMs  int64  `json:"latencyMs"`
	Attempt    int    `json:"attempt"`
	ProviderID string `json:"providerId"`
}
