package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DeployStatus is the serving platform's status for a model deployment.
type DeployStatus string

const (
	StatusDeployed DeployStatus = "DEPLOYED"
	StatusDropped  DeployStatus = "DROPPED"
)

// UnmarshalJSON accepts both the nested {"status": "..."} form the platform
// returns and a bare string.
func (s *DeployStatus) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = DeployStatus(v)
		return nil
	}
	var nested struct {
		Status *DeployStatus `json:"status"`
	}
	if err := json.Unmarshal(data, &nested); err != nil {
		return fmt.Errorf("decoding deploy status: %w", err)
	}
	if nested.Status != nil {
		*s = *nested.Status
	}
	return nil
}

// ModelID is the platform-assigned identifier of a registered model. The
// platform may encode it as a JSON string or number.
type ModelID string

func (id *ModelID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*id = ModelID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding model id: %w", err)
	}
	*id = ModelID(n.String())
	return nil
}

// DeployInfo describes a model's deployment on the serving platform.
type DeployInfo struct {
	Status DeployStatus `json:"status"`
	Path   string       `json:"path"`
	URL    string       `json:"url"`
	Token  string       `json:"token"`
}

// ModelRecord is a model entry returned by the registry listing.
type ModelRecord struct {
	ID             ModelID     `json:"id"`
	Name           string      `json:"name,omitempty"`
	CheckpointPath string      `json:"checkpoint_path"`
	Deploy         *DeployInfo `json:"deploy,omitempty"`
}

// Status returns the deployment status, or "" if the model has never been
// deployed.
func (m ModelRecord) Status() DeployStatus {
	if m.Deploy == nil {
		return ""
	}
	return m.Deploy.Status
}

// IsDeployed reports whether the model is currently servable.
func (m ModelRecord) IsDeployed() bool {
	return m.Status() == StatusDeployed
}

// DeploymentHandle is the connection information for a DEPLOYED model. It is
// only meaningful while the deployment stays up.
type DeploymentHandle struct {
	ModelID     ModelID `json:"model_id"`
	ServingPath string  `json:"serving_path"`
	BaseURL     string  `json:"base_url"`
	APIToken    string  `json:"-"`
}
