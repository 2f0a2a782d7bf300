package httpapi

const apiDocs = `PANOPTES API

    GET /

        Displays this help.

    GET /areas

        Returns the configured areas, by id.

    GET /players

        Returns up to 20 recently active players, most recent first.
        Add a ` + "`filter`" + ` parameter to keep only names containing it.

    GET /ratios

        Returns, per item, the quantity deposited minus the quantity
        withdrawn in the selected areas by the selected players.

        areas    comma-separated area ids; all areas when absent
        players  comma-separated player UUIDs; all players when absent
        locale   language of item names (e.g. fr_fr); default locale when
                 absent or unknown

        Results are cached. The X-Cache response header tells whether the
        answer came from the cache (HIT) or was computed (MISS). Add a
        ` + "`fresh`" + ` parameter, with any value, to force a new computation.

    GET /locales

        Returns the available locales and the default one.

    GET /healthz

        Checks the database connection.

    GET /metrics

        Prometheus metrics.
`
