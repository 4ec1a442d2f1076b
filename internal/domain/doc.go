// Package domain models JPSS direct-readout file notifications and the VIIRS
// granules assembled from them.
//
// # Data Source
//
// Upstream receivers write VIIRS RDR files (HDF5) to a shared filesystem and
// announce each file on the message bus as a "file" notification. The payload
// is flat JSON carrying uri, uid, platform_name, sensor, start_time, end_time
// and orbit_number. Any other key is preserved verbatim and re-published.
//
// # File Naming
//
// JPSS products carry their granule stamp in the file name:
//
//	RNSCA-RVIRS_j01_d20240101_t1200001_e1201255_b31234_c20240101120310000000_drlu_ops.h5
//	            ^^^  ^^^^^^^^^  ^^^^^^^   ^^^^^^^   ^^^^^
//	       platform   date      start     end       orbit
//
// Times are HHMMSS plus one digit of tenths. Only the start date is encoded,
// so an end time earlier than the start time means the granule crossed
// midnight. See [ParseFileStamp].
//
// # Platforms
//
// Notifications name platforms by their long form ("Suomi-NPP", "NOAA-20"),
// file names by their short form ("npp", "j01"). [NormalizePlatform] folds
// both onto the short names used for output directories: npp, noaa20, noaa21.
//
// # Granules
//
// A [Granule] is the set of RDR files of one platform overpass, closed by
// the correlator. Its output directory is
//
//	<platform>_<YYYYMMDD>_<HHMM>_<orbit %05d>
//
// and the dataset announced after processing is built by [NewSDRNotification].
package domain
