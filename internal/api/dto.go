package api

import "github.com/veldrane/eidolon/internal/models"

// OpRequest is the request body for POST /ops/{op}: the relayed operation's
// ordered argument list.
type OpRequest struct {
	Args []any `json:"args"`
}

// OpResponse wraps the relayed operation's return value.
type OpResponse struct {
	Result any `json:"result"`
}

// ContainerView is the response for the open-container surface: the
// container record plus its blueprints and category assignments.
type ContainerView struct {
	Container   models.Record       `json:"container"`
	Blueprints  []models.Record     `json:"blueprints"`
	Assignments []models.Assignment `json:"assignments"`
}

// CatalogFolder pairs a folder with the mirrors living in it.
type CatalogFolder struct {
	Folder  models.Folder   `json:"folder"`
	Mirrors []models.Record `json:"mirrors"`
}

// CatalogResponse is the full catalog view: the root folder and every
// category subfolder with its mirrors.
type CatalogResponse struct {
	Root    *models.Folder  `json:"root,omitempty"`
	Folders []CatalogFolder `json:"folders"`
}
