package shared

// Business module permissions making up the seeded permission catalogue.
const (
	PermInventoryView   = "ver_inventario"
	PermInventoryManage = "gestionar_inventario"

	PermClientsView   = "ver_clientes"
	PermClientsManage = "gestionar_clientes"

	PermEmployeesView   = "ver_empleados"
	PermEmployeesManage = "gestionar_empleados"

	PermSuppliersView   = "ver_proveedores"
	PermSuppliersManage = "gestionar_proveedores"
)

// InventoryScopes lists permissions of the inventory module.
func InventoryScopes() []string {
	return []string{PermInventoryView, PermInventoryManage}
}

// SalesScopes lists permissions of the sales module.
func SalesScopes() []string {
	return []string{PermClientsView, PermClientsManage}
}

// HRScopes lists permissions of the human resources module.
func HRScopes() []string {
	return []string{PermEmployeesView, PermEmployeesManage}
}

// PurchasingScopes lists permissions of the purchasing module.
func PurchasingScopes() []string {
	return []string{PermSuppliersView, PermSuppliersManage}
}

// AllScopes returns the full permission catalogue.
func AllScopes() []string {
	var all []string
	all = append(all, AdminScopes()...)
	all = append(all, InventoryScopes()...)
	all = append(all, SalesScopes()...)
	all = append(all, HRScopes()...)
	all = append(all, PurchasingScopes()...)
	return all
}
