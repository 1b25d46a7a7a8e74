package projection

func demandForecastKind() Kind {
	return Kind{
		Tag:   "DemandForecast",
		Table: "stg_demand_forecasts",
		Key:   "source_event_id",
		Columns: []Column{
			required("snapshot_date", Date),
			col("product_id", Text),
			col("forecast_qty", Decimal),
			col("horizon_days", Int),
			required("forecast_date", Date),
			eventTime("event_timestamp"),
		},
	}
}

// sopSnapshotKind excludes rows keyed off a disallowed product_id prefix
// (component parts rather than sellable products).
func sopSnapshotKind(disallowed []string) Kind {
	k := Kind{
		Tag:   "SOPSnapshot",
		Table: "stg_sop_snapshots",
		Key:   "source_event_id",
		Columns: []Column{
			required("plan_date", Date),
			col("scenario", Text),
			required("product_id", Text),
			col("demand_forecast_qty", Decimal),
			col("supply_plan_qty", Decimal),
			col("inventory_plan_qty", Decimal),
			col("assumptions", Document),
			eventTime("event_timestamp"),
		},
		Drops: []string{"projected_revenue", "projected_margin"},
	}
	if len(disallowed) > 0 {
		k.Filters = append(k.Filters, DisallowPrefix("product_id", disallowed...))
	}
	return k
}
