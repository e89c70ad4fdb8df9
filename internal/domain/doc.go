// Package domain implements quality control for VIIRS Black Marble
// nighttime-light scenes: bit-flag decoding, mandatory-quality interpretation,
// multi-criteria usability masking, and masked statistics.
//
// # Data Source
//
// Scenes are GeoTIFF exports of the NASA VNP46A2 daily product (or a reduced
// four-band export of it), clipped to a study region and named
// "<REGION>_<YYYY-MM-DD>.tif", e.g. "NJ_2021-03-01.tif". Band roles are fixed
// by position per product variant; see [SevenBandProduct] and
// [FourBandProduct].
//
// # VIIRS Data Conventions
//
// QF_Cloud_Mask is a 16-bit packed word:
//
//	bit  0     day/night             1 = day
//	bits 1-3   land/water class      0 land & desert, 1 land no desert,
//	                                 2 inland water, 3 sea water, 5 coastal
//	bits 4-5   cloud mask quality    0 poor, 1 low, 2 medium, 3 high
//	bits 6-7   cloud confidence      0 confident clear, 1 probably clear,
//	                                 2 probably cloudy, 3 confident cloudy
//	bit  8     shadow
//	bit  9     cirrus
//	bit 10     snow/ice
//
// Mandatory_Quality_Flag codes:
//
//	0 high quality, persistent    1 high quality, ephemeral
//	2 poor quality / cloud        3 lunar eclipse
//	4 aurora                      5 glint
//	255 no retrieval (fill)
//
// Snow_Flag is 0 for no snow/ice, 1 for snow/ice, 255 for fill.
//
// Exports frequently promote every band to float32. Flag bands are then
// truncated back to unsigned words before decoding; NaN, negative, and
// out-of-range samples decode as the all-ones fill word so decoding stays
// total.
//
// # Usability
//
// A pixel is usable when every criterion passes: clear sky, no snow in the
// snow band, no snow/ice bit, high quality, and (seven-band, on request)
// night. A criterion that passes nowhere in a scene is treated as all-true
// when its fallback policy allows it, so a band that is entirely fill does
// not discard the whole scene. The high-quality criterion has no fallback by
// default: a scene with no high-quality retrieval has no usable data.
//
// # Statistics
//
// Statistics over the primary radiance band exclude NaN, infinities, the
// band's declared nodata value, and the product fill value. Percentages are
// always relative to the total scene pixel count.
//
// # ID Generation
//
// Report IDs are SHA-256 hashes of scene|variant|night_only so that
// reprocessing a scene upserts the same report downstream.
package domain
