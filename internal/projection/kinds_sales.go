package projection

func orderKind() Kind {
	return Kind{
		Tag:   "Order",
		Table: "stg_orders",
		Key:   "order_id",
		Columns: []Column{
			required("order_id", UUID),
			col("customer_id", Text),
			col("product_id", Text),
			eventTime("order_date"),
			col("qty", Int),
			col("unit_price", Decimal),
			col("line_total", Decimal),
			col("promo_id", UUID),
		},
		Renames: map[string]string{"quantity": "qty"},
		Drops:   []string{"estimated_margin", "expected_profit"},
	}
}

func backorderKind() Kind {
	return Kind{
		Tag:   "Backorder",
		Table: "stg_backorders",
		Key:   "order_id",
		Columns: []Column{
			required("order_id", UUID),
			col("customer_id", Text),
			col("product_id", Text),
			eventTime("backorder_timestamp"),
			col("qty_backordered", Int),
			col("original_order_qty", Int),
			col("reason", Text),
		},
	}
}

func shipmentKind() Kind {
	return Kind{
		Tag:   "Shipment",
		Table: "stg_shipments",
		Key:   "source_event_id",
		Columns: []Column{
			col("shipment_id", UUID),
			required("order_id", UUID),
			col("load_id", UUID),
			col("product_id", Text),
			col("qty", Int),
			col("amount", Decimal),
			eventTime("event_timestamp"),
		},
		Renames: map[string]string{"qty_shipped": "qty"},
	}
}

func invoiceKind() Kind {
	return Kind{
		Tag:   "Invoice",
		Table: "stg_invoices",
		Key:   "invoice_id",
		Columns: []Column{
			required("invoice_id", UUID),
			col("order_id", UUID),
			col("customer_id", Text),
			col("product_id", Text),
			col("qty", Int),
			col("amount", Decimal),
			col("currency", Text),
			col("due_date", Timestamp),
			eventTime("invoice_timestamp"),
		},
	}
}

func paymentKind() Kind {
	return Kind{
		Tag:   "Payment",
		Table: "stg_payments",
		Key:   "source_event_id",
		Columns: []Column{
			col("payment_id", UUID),
			required("invoice_id", UUID),
			col("amount", Decimal),
			col("method", Text),
			col("on_time", Bool),
			eventTime("paid_at"),
		},
		Renames: map[string]string{"payment_method": "method"},
		Drops:   []string{"days_late"},
	}
}
