package shared

// Platform administration permissions.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView = "permissions.view"

	PermLocalizationEdit = "localization.edit"

	PermAccessView = "access.view"
	PermAccessEdit = "access.edit"
)

// Invoicing permissions.
const (
	PermInvoiceView   = "sales.invoice.view"
	PermInvoiceCreate = "sales.invoice.create"
	PermInvoiceEdit   = "sales.invoice.edit"
	PermInvoicePost   = "sales.invoice.post"
	PermInvoiceCancel = "sales.invoice.cancel"

	PermReturnCreate = "sales.return.create"

	PermNumberFormatView = "invoicing.format.view"
	PermNumberFormatEdit = "invoicing.format.edit"

	PermStockReportView = "masterdata.stock.view"
	PermStockAdjust     = "masterdata.stock.adjust"
)

// AdministrationScopes lists the permissions that manage users, roles,
// module access and localization.
func AdministrationScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermLocalizationEdit,
		PermAccessView,
		PermAccessEdit,
	}
}

// InvoicingScopes lists the permissions for sales, returns, numbering and stock.
func InvoicingScopes() []string {
	return []string{
		PermInvoiceView,
		PermInvoiceCreate,
		PermInvoiceEdit,
		PermInvoicePost,
		PermInvoiceCancel,
		PermReturnCreate,
		PermNumberFormatView,
		PermNumberFormatEdit,
		PermStockReportView,
		PermStockAdjust,
	}
}

// ReadOnlyScopes is the subset granted to auditors.
func ReadOnlyScopes() []string {
	return []string{
		PermInvoiceView,
		PermNumberFormatView,
		PermStockReportView,
		PermAccessView,
	}
}

// AllScopes returns every permission known to the application.
func AllScopes() []string {
	return append(AdministrationScopes(), InvoicingScopes()...)
}
