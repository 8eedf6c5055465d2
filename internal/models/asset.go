package models

// Asset is a piece of physical equipment tracked by the maintenance sheet.
type Asset struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Type                string `json:"type"`
	Building            string `json:"building,omitempty"`
	Floor               string `json:"floor,omitempty"`
	Status              string `json:"status,omitempty"`
	NextMaintenanceDate string `json:"next_maintenance_date,omitempty"`
	LastMaintenanceDate string `json:"last_maintenance_date,omitempty"`
	SerialNumber        string `json:"serial_number,omitempty"`
	Manufacturer        string `json:"manufacturer,omitempty"`
	Model               string `json:"model,omitempty"`
	InstallationDate    string `json:"installation_date,omitempty"`
}

// Contractor is one entry of the asset-type contractors directory.
type Contractor struct {
	AssetType string `json:"asset_type"`
	Name      string `json:"name,omitempty"`
	Company   string `json:"company,omitempty"`
	Role      string `json:"role,omitempty"`
}

// TestHistoryEntry summarizes one finished test instance read back from the results sheet.
type TestHistoryEntry struct {
	AssetID       string `json:"asset_id"`
	ProcedureID   string `json:"procedure_id"`
	Date          string `json:"date"`
	Technicians   string `json:"technicians"`
	Contractors   string `json:"contractors"`
	OverallStatus string `json:"overall_status"`
	Notes         string `json:"notes,omitempty"`
	Timestamp     string `json:"timestamp"`
}
