package projection

// deliveryCodes are the stored single-character delivery event codes.
var deliveryCodes = map[string]string{
	"Pickup":   "P",
	"Delivery": "D",
}

func loadKind() Kind {
	return Kind{
		Tag:   "Load",
		Table: "stg_loads",
		Key:   "load_id",
		Columns: []Column{
			required("load_id", UUID),
			col("order_id", UUID),
			col("customer_id", Text),
			col("route_id", Text),
			col("product_id", Text),
			col("qty", Int),
			col("weight_lbs", Decimal),
			col("pieces", Int),
			col("load_status", Text),
			col("scheduled_pickup", Timestamp),
			col("scheduled_delivery", Timestamp),
			col("actual_delivery", Timestamp),
			eventTime("created_at"),
			col("distance_miles", Int),
		},
		Renames: map[string]string{"status": "load_status"},
		Drops:   []string{"freight_cost", "fuel_surcharge"},
	}
}

func deliveryEventKind() Kind {
	return Kind{
		Tag:   "DeliveryEvent",
		Table: "stg_delivery_events",
		Key:   "event_id",
		Columns: []Column{
			required("event_id", UUID),
			col("load_id", UUID),
			code("event_type", deliveryCodes),
			col("facility_id", Text),
			eventTime("event_timestamp"),
			col("scheduled_datetime", Timestamp),
			col("actual_datetime", Timestamp),
			col("detention_minutes", Int),
			col("on_time_flag", Bool),
		},
		Renames: map[string]string{"on_time": "on_time_flag"},
		Drops:   []string{"detention_charge"},
	}
}
