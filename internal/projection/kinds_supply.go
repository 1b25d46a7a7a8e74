package projection

func purchaseOrderKind() Kind {
	return Kind{
		Tag:   "PurchaseOrder",
		Table: "stg_purchase_orders",
		Key:   "purchase_order_id",
		Columns: []Column{
			required("purchase_order_id", UUID),
			col("part_id", Text),
			col("qty", Int),
			col("supplier_id", Text),
			col("supplier_country", Text),
			col("lead_time_hours", Int),
			col("eta", Timestamp),
			withDefault("is_reorder", Bool, false),
			col("unit_cost", Decimal),
			col("total_cost", Decimal),
			col("base_cost", Decimal),
			eventTime("event_timestamp"),
		},
		Renames: map[string]string{"po_id": "purchase_order_id"},
		Drops:   []string{"expected_savings", "risk_premium", "price_multiplier"},
	}
}

func poReceiptKind() Kind {
	return Kind{
		Tag:   "POReceipt",
		Table: "stg_po_receipts",
		Key:   "source_event_id",
		Columns: []Column{
			required("purchase_order_id", UUID),
			required("part_id", Text),
			required("qty_ordered", Int),
			required("qty_received", Int),
			withDefault("qty_rejected", Int, int64(0)),
			required("supplier_id", Text),
			withDefault("was_partial_shipment", Bool, false),
			required("new_qty_on_hand", Int),
			eventTime("received_timestamp"),
		},
		Renames: map[string]string{"po_id": "purchase_order_id"},
	}
}

func reorderKind() Kind {
	return Kind{
		Tag:   "Reorder",
		Table: "stg_reorders",
		Key:   "source_event_id",
		Columns: []Column{
			required("part_id", Text),
			col("qty", Int),
			col("reorder_point", Int),
			col("qty_on_hand", Int),
			col("trigger_reason", Text),
			eventTime("event_timestamp"),
		},
		Renames: map[string]string{"reorder_qty": "qty", "reason": "trigger_reason"},
	}
}
